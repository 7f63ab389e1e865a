// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ir

// WalkResult controls a Walk.
type WalkResult int

const (
	// WalkAdvance continues into the node's children.
	WalkAdvance WalkResult = iota

	// WalkSkip continues with the next sibling without visiting the
	// node's children.
	WalkSkip

	// WalkInterrupt stops the walk.
	WalkInterrupt
)

// Walk visits nodes depth-first in pre-order. The callback must not insert
// or erase nodes of the lists being walked.
func Walk(nodes []*IRNode, visit func(*IRNode) WalkResult) WalkResult {
	for _, node := range nodes {
		switch visit(node) {
		case WalkInterrupt:
			return WalkInterrupt
		case WalkSkip:
			continue
		}
		if len(node.Children) > 0 {
			if Walk(node.Children, visit) == WalkInterrupt {
				return WalkInterrupt
			}
		}
	}
	return WalkAdvance
}

// Loops returns every loop in nodes, outer loops before the loops they
// contain.
func Loops(nodes []*IRNode) []*IRNode {
	var loops []*IRNode
	Walk(nodes, func(n *IRNode) WalkResult {
		if n.Kind == OpKindLoop {
			loops = append(loops, n)
		}
		return WalkAdvance
	})
	return loops
}

// PostOrderLoops returns every loop in nodes, inner loops before the loops
// that contain them.
func PostOrderLoops(nodes []*IRNode) []*IRNode {
	var loops []*IRNode
	var walkNodes func([]*IRNode)
	walkNodes = func(nodes []*IRNode) {
		for _, node := range nodes {
			if node.Kind != OpKindLoop {
				continue
			}
			walkNodes(node.Children)
			loops = append(loops, node)
		}
	}
	walkNodes(nodes)
	return loops
}

// IsAncestor returns true if loop encloses node, directly or not.
func IsAncestor(loop, node *IRNode) bool {
	for p := node.Parent; p != nil; p = p.Parent {
		if p == loop {
			return true
		}
	}
	return false
}

// DefinedInside returns true if v is defined by a node enclosed in loop or
// is one of loop's block arguments.
func DefinedInside(loop *IRNode, v *Value) bool {
	if v.Def == nil {
		return false
	}
	if v.Def == loop {
		return v.IsBlockArg()
	}
	return IsAncestor(loop, v.Def)
}
