// Package policy provides Open Policy Agent (OPA) preflight checks for the
// deployer configuration.
//
// Policies are Rego modules defining a "deny" set. Each element is either a
// message string or an object:
//
//	deny contains violation if {
//		input.config.app.user == "root"
//		violation := {
//			"message": "app.user must be an unprivileged account, not root",
//			"severity": "error",
//			"field": "app.user",
//		}
//	}
//
// The input document is {"config": <Config as JSON>, "secrets_mode": <int>}.
// Violations default to the policy's severity; only "error" violations
// block the run.
//
// Built-in policies:
//
//   - firewall-admin-access: the remote-administration firewall profile is set
//   - secrets-permissions: the secrets mode grants no group or other access
//   - source-transport: the repository is cloned over https or ssh
//   - runtime-identity: the application does not run as root
package policy
