// Package wallet is the custody boundary. It holds references to key
// material rather than the material itself, and performs signing, key
// lifecycle, and provider invocation on behalf of callers.
//
// Every key item carries its own capability set. Capability checks run
// before any secret fetch: a caller that is not allowed to sign never
// causes the private key to leave the secret store.
package wallet
