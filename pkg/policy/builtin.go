package policy

import (
	"time"
)

// GetBuiltinPolicies returns the policies every engine starts with.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		allowedSchemesPolicy(),
		requiredHostPolicy(),
		embeddedCredentialsPolicy(),
		allowedMethodsPolicy(),
	}
}

func builtin(name, description string, severity Severity, tags []string, rego string) Policy {
	now := time.Now()
	return Policy{
		Name:        name,
		Description: description,
		Rego:        rego,
		Severity:    severity,
		Enabled:     true,
		Builtin:     true,
		Tags:        tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// allowedSchemesPolicy restricts fetches to the schemes a transport exists for.
func allowedSchemesPolicy() Policy {
	return builtin("fetch-scheme",
		"Only http, https and sftp urls may be fetched",
		SeverityError, []string{"fetch", "transport"},
		`package vizor.fetch.scheme

import rego.v1

allowed := {"http", "https", "sftp"}

deny contains violation if {
	not allowed[input.scheme]
	violation := {
		"message": sprintf("scheme %q of %s is not allowed", [input.scheme, input.url]),
		"severity": "error",
	}
}
`)
}

// requiredHostPolicy rejects relative and malformed urls.
func requiredHostPolicy() Policy {
	return builtin("fetch-host",
		"Fetch urls must name a host",
		SeverityError, []string{"fetch"},
		`package vizor.fetch.host

import rego.v1

deny contains violation if {
	input.host == ""
	violation := {
		"message": sprintf("url %s has no host", [input.url]),
		"severity": "error",
	}
}
`)
}

// embeddedCredentialsPolicy warns about credentials written into urls. They
// end up in logs and cached descriptors.
func embeddedCredentialsPolicy() Policy {
	return builtin("fetch-credentials",
		"Warns when a fetch url embeds user credentials",
		SeverityWarning, []string{"fetch", "security"},
		`package vizor.fetch.credentials

import rego.v1

deny contains violation if {
	input.has_userinfo
	violation := {
		"message": sprintf("url of data source %s embeds credentials", [input.fetch_id]),
		"severity": "warning",
	}
}
`)
}

// allowedMethodsPolicy limits fetches to methods that read data.
func allowedMethodsPolicy() Policy {
	return builtin("fetch-method",
		"Fetches may only use GET, HEAD or POST",
		SeverityError, []string{"fetch"},
		`package vizor.fetch.method

import rego.v1

allowed := {"GET", "HEAD", "POST"}

deny contains violation if {
	not allowed[input.method]
	violation := {
		"message": sprintf("method %s is not allowed for %s", [input.method, input.url]),
		"severity": "error",
	}
}
`)
}
