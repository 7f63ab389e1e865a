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

package asyncstore

import (
	"fmt"
	"os"
)

// debugAsyncStore enables debug output for the pass.
var debugAsyncStore = os.Getenv("DEBUG_ASYNCSTORE") != ""

func debugPrint(format string, args ...any) {
	if debugAsyncStore {
		fmt.Fprintf(os.Stderr, "[asyncstore] "+format+"\n", args...)
	}
}
