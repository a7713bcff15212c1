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

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/compute/metadata"
	"github.com/google/uuid"
)

// RuntimeInfo describes the process emitting events. It feeds the static
// fields added by [WithRuntimeFields].
type RuntimeInfo struct {
	Hostname   string
	InstanceID string
	Service    string
	Revision   string
	ProjectID  string
	Zone       string
	Instance   string
}

var (
	runtimeInfo     RuntimeInfo
	runtimeInfoOnce sync.Once

	metadataTimeout = 500 * time.Millisecond
	onGCE           = metadata.OnGCE
	metadataFetch   = defaultMetadataFetch
)

// DetectRuntimeInfo inspects the host name, well-known serverless
// environment variables and, on Google Compute Engine, the metadata server.
// Results are cached for the life of the process; InstanceID is a random
// UUID generated once per process.
func DetectRuntimeInfo() RuntimeInfo {
	runtimeInfoOnce.Do(func() {
		runtimeInfo = detectRuntimeInfo()
	})
	return runtimeInfo
}

// detectRuntimeInfo performs the uncached detection.
func detectRuntimeInfo() RuntimeInfo {
	info := RuntimeInfo{
		InstanceID: uuid.NewString(),
		Service:    firstNonEmpty(trimmedEnv("K_SERVICE"), trimmedEnv("CLOUD_RUN_JOB"), trimmedEnv("GAE_SERVICE")),
		Revision:   firstNonEmpty(trimmedEnv("K_REVISION"), trimmedEnv("CLOUD_RUN_EXECUTION"), trimmedEnv("GAE_VERSION")),
		ProjectID:  firstNonEmpty(trimmedEnv("GOOGLE_CLOUD_PROJECT"), trimmedEnv("GCLOUD_PROJECT"), trimmedEnv("GCP_PROJECT")),
	}
	if host, err := os.Hostname(); err == nil {
		info.Hostname = host
	}

	if !onGCE() {
		return info
	}

	ctx, cancel := context.WithTimeout(context.Background(), metadataTimeout)
	defer cancel()
	if info.ProjectID == "" {
		info.ProjectID = metadataFetch(ctx, "project")
	}
	info.Zone = metadataFetch(ctx, "zone")
	info.Instance = metadataFetch(ctx, "instance")
	return info
}

// defaultMetadataFetch reads one value from the GCE metadata server. Errors
// yield an empty string.
func defaultMetadataFetch(ctx context.Context, what string) string {
	var (
		val string
		err error
	)
	switch what {
	case "project":
		val, err = metadata.ProjectIDWithContext(ctx)
	case "zone":
		val, err = metadata.ZoneWithContext(ctx)
	case "instance":
		val, err = metadata.InstanceNameWithContext(ctx)
	}
	if err != nil {
		return ""
	}
	return strings.TrimSpace(val)
}

// Fields renders the runtime information as static payload fields. Empty
// values are omitted.
func (info RuntimeInfo) Fields() map[string]any {
	fields := make(map[string]any, 4)
	putNonEmpty(fields, "hostname", info.Hostname)
	putNonEmpty(fields, "instance_id", info.InstanceID)
	putNonEmpty(fields, "service", info.Service)
	putNonEmpty(fields, "revision", info.Revision)

	gcp := make(map[string]any, 3)
	putNonEmpty(gcp, "project_id", info.ProjectID)
	putNonEmpty(gcp, "zone", info.Zone)
	putNonEmpty(gcp, "instance", info.Instance)
	if len(gcp) > 0 {
		fields["gcp"] = gcp
	}
	return fields
}

// putNonEmpty stores value under key when value is not blank.
func putNonEmpty(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// trimmedEnv reads an environment variable and trims surrounding whitespace.
func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// firstNonEmpty returns the first non-empty string.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
