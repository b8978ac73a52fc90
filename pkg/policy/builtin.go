package policy

// BuiltinPolicies returns the preflight policies evaluated before every run.
func BuiltinPolicies() []Policy {
	return []Policy{
		firewallAdminAccessPolicy(),
		secretsPermissionsPolicy(),
		sourceTransportPolicy(),
		runtimeIdentityPolicy(),
	}
}

// firewallAdminAccessPolicy keeps the remote-administration rule in place
// before the firewall is enabled.
func firewallAdminAccessPolicy() Policy {
	return Policy{
		Name:        "firewall-admin-access",
		Description: "The firewall must always allow a remote administration profile",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package deployer.preflight.firewall

import rego.v1

deny contains violation if {
	not input.config.firewall.admin_profile
	violation := {
		"message": "firewall.admin_profile must be set; enabling the firewall without it locks out remote administration",
		"field": "firewall.admin_profile",
	}
}

deny contains violation if {
	input.config.firewall.admin_profile == ""
	violation := {
		"message": "firewall.admin_profile must be set; enabling the firewall without it locks out remote administration",
		"field": "firewall.admin_profile",
	}
}

deny contains violation if {
	profile := input.config.firewall.admin_profile
	profile != ""
	not contains(lower(profile), "ssh")
	violation := {
		"message": sprintf("firewall.admin_profile '%s' does not look like an SSH profile", [profile]),
		"severity": "warning",
		"field": "firewall.admin_profile",
	}
}
`,
	}
}

// secretsPermissionsPolicy rejects secrets modes readable beyond the owner.
func secretsPermissionsPolicy() Policy {
	return Policy{
		Name:        "secrets-permissions",
		Description: "The secrets file must only be accessible by its owner",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package deployer.preflight.secrets

import rego.v1

deny contains violation if {
	bits.and(input.secrets_mode, 63) != 0
	violation := {
		"message": sprintf("secrets.mode %s grants group or other access", [input.config.secrets.mode]),
		"field": "secrets.mode",
	}
}

deny contains violation if {
	bits.and(input.secrets_mode, 384) != 384
	bits.and(input.secrets_mode, 63) == 0
	violation := {
		"message": sprintf("secrets.mode %s does not let the owner read and write the file", [input.config.secrets.mode]),
		"severity": "warning",
		"field": "secrets.mode",
	}
}
`,
	}
}

// sourceTransportPolicy requires an authenticated, encrypted clone transport.
func sourceTransportPolicy() Policy {
	return Policy{
		Name:        "source-transport",
		Description: "The application repository must be fetched over https or ssh",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package deployer.preflight.source

import rego.v1

allowed_prefixes := ["https://", "ssh://", "git@"]

deny contains violation if {
	url := input.config.source.repo_url
	not secure_transport(url)
	violation := {
		"message": sprintf("source.repo_url '%s' must use https or ssh", [url]),
		"field": "source.repo_url",
	}
}

secure_transport(url) if {
	some prefix in allowed_prefixes
	startswith(url, prefix)
}
`,
	}
}

// runtimeIdentityPolicy rejects running the application as root.
func runtimeIdentityPolicy() Policy {
	return Policy{
		Name:        "runtime-identity",
		Description: "The application must not run as root",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package deployer.preflight.identity

import rego.v1

deny contains violation if {
	input.config.app.user == "root"
	violation := {
		"message": "app.user must be an unprivileged account, not root",
		"field": "app.user",
	}
}
`,
	}
}
