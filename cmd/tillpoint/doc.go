// Command tillpoint is the operator CLI for the tillpoint daemon: scale
// status and readings, device selection, the product catalog, and checkout.
package main
