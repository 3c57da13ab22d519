// Copyright 2025 James Ross
package config

import "github.com/google/uuid"

// DefaultScopeIDs derives the default tenant and project UUIDs the same way
// across every fresh deployment: a SHA1 namespace hash of a fixed string,
// matching the original system's uuid.uuid5(uuid.NAMESPACE_DNS, ...) scheme
// byte-for-byte (Go's NewSHA1 with NameSpaceDNS is the same algorithm).
func DefaultScopeIDs() (tenantID, projectID string) {
	tenantID = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("llmscope.default.tenant")).String()
	projectID = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("llmscope.default.project")).String()
	return tenantID, projectID
}
