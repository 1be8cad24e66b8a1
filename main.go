package main

import "services-market-backend/cmd"

func main() {
	cmd.Run()
}
