// Package notary talks to the external notarization service through the
// notarytool CLI: submitting an archive, polling for a verdict with capped
// exponential backoff, and fetching the reviewer log on rejection.
package notary
