/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/checador/device/cmd"

func main() {
	cmd.Execute()
}
