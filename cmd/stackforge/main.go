// Stackforge - cloud accounts and starter infrastructure for new startups.
package main

func main() {
	Execute()
}
