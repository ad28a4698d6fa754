// Ohjaamo - resource lifecycle control plane.
package main

func main() {
	Execute()
}
