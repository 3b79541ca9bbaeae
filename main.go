package main

import "github.com/tangym/sensorlog/cmd"

func main() {
	cmd.Execute()
}
