package main

import (
	"github.com/Manu343726/escarabajo/cmd"
)

func main() {
	cmd.Execute()
}
