// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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

// Package klogcontrol bridges this module's own logging level to the
// verbosity of the vendored k8s.io/klog/v2 sink, without pulling in any
// Kubernetes CRD/config-object type to describe that mapping.
package klogcontrol

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"k8s.io/klog/v2"
)

// Control implements runtime control for klog.
type Control struct {
	*flag.FlagSet
}

// Our singleton klog Control instance.
var ctl = &Control{FlagSet: flag.NewFlagSet("klog flags", flag.ContinueOnError)}

// Get returns our singleton klog Control instance.
func Get() *Control {
	return ctl
}

// levelToVerbosity maps a NUMA_DEBUG severity onto a klog -v value: the
// more verbose the desired output, the higher the klog verbosity level.
func levelToVerbosity(level fmt.Stringer) string {
	switch level.String() {
	case "debug":
		return "4"
	case "info":
		return "2"
	case "warn":
		return "1"
	default:
		return "0"
	}
}

// SetLevel reconfigures klog's verbosity to match the given logging
// level (anything implementing String(), so klogcontrol never needs to
// import the log package and create a cycle).
func (c *Control) SetLevel(level fmt.Stringer) error {
	return c.Set("v", levelToVerbosity(level))
}

// getEnvForFlag returns a default value for the flag from the environment.
func getEnvForFlag(flagName string) (string, string, bool) {
	name := "NUMA_KLOG_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
	if value, ok := os.LookupEnv(name); ok {
		return name, value, true
	}
	return "", "", false
}

// klogError returns a package-specific formatted error.
func klogError(format string, args ...interface{}) error {
	return fmt.Errorf("klogcontrol: "+format, args...)
}

// init discovers klog flags and sets up dynamic control for them.
func init() {
	ctl.SetOutput(io.Discard)
	klog.InitFlags(ctl.FlagSet)
	ctl.VisitAll(func(f *flag.Flag) {
		if name, value, ok := getEnvForFlag(f.Name); ok {
			if err := ctl.Set(f.Name, value); err != nil {
				klog.Errorf("klog flag %q: invalid environment default %s=%q: %v",
					f.Name, name, value, err)
			}
		} else if f.Name == "skip_headers" {
			if value, _ := os.LookupEnv("JOURNAL_STREAM"); value != "" {
				klog.Infof("Logging to journald, forcing headers off...")
				ctl.Set(f.Name, "true")
			}
		}
	})
}
