package main

import "github.com/ValentinKolb/hdlwire/cmd"

func main() {
	cmd.Execute()
}
