// Command isoctl encodes, decodes and sends ISO 8583 messages and inspects
// captures and stored decisions of the fraud engine.
package main

func main() {
	Execute()
}
