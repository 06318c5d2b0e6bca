package main

import "github.com/andresmejia3/facescan/cmd"

func main() {
	cmd.Execute()
}
