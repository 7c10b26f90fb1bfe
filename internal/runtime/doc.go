// Package runtime resolves runtime specifiers and composes runtime
// packages into per-job filesystems.
//
// A [Registry] scans a root directory of staged runtime packages (one
// subdirectory per language family, one per instance) and publishes
// immutable [Snapshot] values through an atomic swap, so concurrent
// lookups never observe a half-built registry. A caller-supplied
// specifier string (name:version[+variant]) is parsed into a [Specifier]
// and looked up to a [Descriptor], the parsed, read-only configuration of
// one installed runtime.
//
// The [Manager] drives the per-job lifecycle: a descriptor is validated
// against host facts, its mount rules are planned into an ordered list of
// bind operations scoped to the job root, the mounts are applied in
// declaration order, and the effective environment is computed for the
// launcher. Release reverses the mounts in exact reverse order and is
// idempotent. A mount failure partway through rolls back the applied
// prefix before the error surfaces, so a job never starts on a partially
// mounted runtime.
//
// Example usage:
//
//	reg := runtime.NewRegistry("/var/lib/runwayd/runtimes")
//	if _, err := reg.Refresh(ctx); err != nil {
//	    return err
//	}
//
//	mgr := runtime.NewManager(runtime.Config{Registry: reg})
//
//	sess, err := mgr.Start(ctx, jobID, jobRoot, "python:3.11+ml", jobEnv)
//	if err != nil {
//	    return err
//	}
//	defer mgr.Release(sess)
//
//	launch(jobRoot, sess.Env())
package runtime
