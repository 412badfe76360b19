// Package policy provides Open Policy Agent (OPA) admission control for
// external data fetches.
//
// Every fetch descriptor of a chart is evaluated against a set of Rego
// policies before it is retrieved. A policy is a Rego module that defines a
// deny set. Violations with severity error or critical block the fetch and
// surface as POLICY_DENIED fetch failures; lower severities are logged.
//
// # Usage
//
//	guard, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := guard.LoadPolicies(ctx, []string{"/etc/vizor/policies"}); err != nil {
//	    log.Fatal(err)
//	}
//
//	ctrl, err := engine.NewController(engine.Dependencies{
//	    // ...
//	    Guard: guard,
//	})
//
// # Input
//
// Policies see the following input document:
//
//	{
//	    "chart_id": "sales",
//	    "fetch_id": "regions",
//	    "url": "https://example.com/regions.json",
//	    "scheme": "https",
//	    "host": "example.com",
//	    "path": "/regions.json",
//	    "method": "GET",
//	    "fetch_as": "json",
//	    "has_userinfo": false
//	}
//
// Documents stored with SetData are available under data.<key>.
//
// # Built-in Policies
//
//  1. fetch-scheme - only http, https and sftp
//  2. fetch-host - the url must name a host
//  3. fetch-credentials - warns about credentials embedded in urls
//  4. fetch-method - only GET, HEAD and POST
//
// # Custom Policies
//
//	package vizor.custom.internal
//
//	import rego.v1
//
//	deny contains violation if {
//	    endswith(input.host, ".internal")
//	    violation := {
//	        "message": sprintf("chart %s may not read internal hosts", [input.chart_id]),
//	        "severity": "error",
//	    }
//	}
//
// # Hot Reload
//
// Watch reloads the custom policies whenever a .rego or .json file under the
// watched paths changes. Builtin policies are kept across reloads, and a
// reload that fails to compile leaves the previous set active.
package policy
