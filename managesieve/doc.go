// Package managesieve is a ManageSieve (RFC 5804) client for installing
// generated scripts on a mail server.
//
// # Commands
//
// The client speaks the subset needed to manage a user's scripts:
//
//   - CAPABILITY, read on connect and again after STARTTLS
//   - STARTTLS
//   - AUTHENTICATE with SASL PLAIN
//   - LISTSCRIPTS, GETSCRIPT, PUTSCRIPT, CHECKSCRIPT
//   - SETACTIVE, DELETESCRIPT
//   - LOGOUT
//
// Scripts are always sent as non-synchronizing literals ({n+}).
//
// # Errors
//
// A NO response is returned as a *ResponseError. Its response code maps to
// the sentinels in consts: NONEXISTENT to ErrScriptNotFound, and a failed
// PUTSCRIPT or CHECKSCRIPT to ErrScriptRejected. Anything the client cannot
// parse is ErrProtocol.
//
// # Usage
//
//	svc := managesieve.NewService(cfg.ManageSieve, backoff)
//	if err := svc.Upload(ctx, "sieveforge", script, true); err != nil {
//		return err
//	}
package managesieve
