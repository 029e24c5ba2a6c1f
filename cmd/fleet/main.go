// Command fleet orchestrates pooled terminal agents under tiered safety policies.
package main

func main() {
	Execute()
}
