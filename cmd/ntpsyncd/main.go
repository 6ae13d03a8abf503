/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Binary ntpsyncd runs the NTP client synchronization engine as a
// standalone daemon, exposing its offset/delay diagnostics over
// Prometheus. It exits non-zero if the engine fails to reach its first
// synchronization; a terminal error after that is logged and the daemon
// keeps running until it receives SIGINT or SIGTERM.
package main

import "github.com/facebook/ntpsync/cmd/ntpsyncd/cmd"

func main() {
	cmd.Execute()
}
