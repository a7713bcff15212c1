// Copyright 2025 Patrick J. Scruggs
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

package sloggly

import "fmt"

// Version identifies this release of sloggly. Builds may stamp a different
// value with -ldflags "-X github.com/pjscruggs/sloggly.Version=...".
var Version = "v0.1.0"

// UserAgent is the User-Agent header sent with every ingestion request.
var UserAgent string

func init() {
	UserAgent = fmt.Sprintf("sloggly/%s (+https://github.com/pjscruggs/sloggly)", Version)
}

// GetVersion reports the Version the binary was built with.
func GetVersion() string { return Version }
