// Command xmountctl assembles a pipeline from input evidence and
// reports the virtual file set a FUSE binding would serve at a mount
// point; it does not mount anything itself.
package main

func main() {
	execute()
}
