// Package engine provides the run model and the fail-fast pipeline that
// drives the deployer's provisioning stages.
//
// # Overview
//
// A run walks a fixed, linear chain of stages:
//
//	Guard -> Packages -> Fetch -> Env -> Secrets -> Service -> Proxy -> Firewall -> Report
//
// Each stage receives the run record and either returns an Outcome or a
// classified *StageError. The first error ends the run in the Aborted state;
// remaining stages are marked Skipped. Nothing is rolled back: a clearly
// failed, inspectable host is preferred over a half-provisioned one.
//
// # Observers
//
// Console progress, the run journal and metrics are attached as Observers.
// They see every status transition but cannot change the outcome of a run.
//
// # Errors
//
// StageError carries an ErrorKind (PrivilegeError, DependencyError,
// FetchError, EnvironmentError, SecretsError, ServiceStartError,
// ConfigValidationError, FirewallError, ConfigError), the failing command's
// exit status, captured tool output and an operator hint:
//
//	if engine.IsKind(err, engine.KindConfigValidation) {
//	    // proxy was not reloaded
//	}
//	os.Exit(engine.ExitCode(err))
package engine
