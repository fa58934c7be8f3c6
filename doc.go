// Package magpie implements an ESMTP submission engine: it accepts client
// connections, drives the SMTP command state machine (RFC 5321) and hands
// completed messages to a pluggable storage backend.
//
// # Server
//
//	store := memstore.New()
//	config := magpie.DefaultServerConfig()
//	config.Hostname = "mail.example.com"
//	config.Store = store
//
//	server, err := magpie.NewServer(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(server.ListenAndServe())
//
// The engine treats the DATA payload as an opaque byte stream bounded by the
// dot terminator: no MIME parsing, no header rewriting. A finished Message
// carries the envelope (reverse-path, recipients in RCPT order) and the raw
// dot-unescaped body bytes, plus the transfer metadata negotiated for the
// transaction (body type, declared size, TLS, authenticated identity).
//
// # Ports
//
// All policy lives behind three capability interfaces configured up front:
//
//   - Store persists a completed Message. Its error kind (temporary or
//     permanent DeliveryError) decides the reply the client sees.
//   - Authenticator validates credentials collected by the AUTH negotiator.
//   - RecipientFilter, optional, accepts or rejects individual RCPT
//     addresses without aborting the transaction.
//
// All three must be safe for concurrent use: one session runs per accepted
// connection and sessions share nothing else but the read-only configuration.
//
// # Extensions
//
// Advertised via EHLO: ENHANCEDSTATUSCODES, PIPELINING, 8BITMIME, SMTPUTF8,
// and, when configured, SIZE, STARTTLS and AUTH (PLAIN, LOGIN). Credential
// exchange is refused on an unsecured channel unless AllowInsecureAuth is
// set.
//
// # Shutdown
//
// Shutdown stops the listener, sends 421 to connected clients, and waits for
// running sessions up to the context deadline before force-closing them.
package magpie
