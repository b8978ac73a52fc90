// Package config loads and validates the deployer configuration.
//
// # Overview
//
// The deployer works without any configuration file: Default describes the
// standard layout of one Flask application behind nginx on one VPS. A
// configuration file only overrides what differs and may be written in YAML
// or CUE:
//
//	# deployer.yaml
//	app:
//	  dir: /srv/discharge-summary
//	  domain: summaries.example.org
//	source:
//	  repo_url: https://github.com/clinic/discharge-summary.git
//	  branch: main
//
//	// deployer.cue
//	app: {
//	    dir:    "/srv/discharge-summary"
//	    domain: "summaries.example.org"
//	}
//
// # Validation
//
// Fields are checked with go-playground/validator struct tags. Three custom
// rules are registered: abspath and relpath for host and application-relative
// paths, and filemode for octal permission strings. Cross-field rules (such as
// the firewall admin profile not appearing twice) are checked by Validate.
package config
