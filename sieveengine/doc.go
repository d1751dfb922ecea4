// Package sieveengine runs Sieve scripts with go-sieve so generated filters
// can be checked by a real interpreter before they are installed.
//
// Two uses:
//   - CheckScript loads a script against a set of enabled extensions and
//     reports syntax errors and undeclared or unsupported requirements.
//   - SieveExecutor evaluates a loaded script against one message and
//     reports what delivery would do with it.
//
// # Dry runs
//
// Evaluation never delivers, redirects or replies. Redirects are allowed so
// their targets show up in the Result. Vacation responses are always
// refused, so a vacation action leaves the implicit keep in place.
//
// # Cross checks
//
// CrossCheck renders a filter, runs it through go-sieve and through the
// in-process matcher for every email, and lists the emails on which the two
// disagree about the destination.
//
// # Usage
//
//	script := f.ToSieveScript()
//	if err := sieveengine.CheckScript(script, nil); err != nil {
//	    return err
//	}
//	exec, err := sieveengine.NewSieveExecutor(script, nil)
//	if err != nil {
//	    return err
//	}
//	res, err := exec.Evaluate(ctx, sieveengine.ContextFromEmail(e))
package sieveengine
