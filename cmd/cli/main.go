package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"linkgate/cmd/cli/command"
)

// 打印欢迎信息
func printWelcomeMessage() {
	fmt.Println("Welcome to the LinkGate CLI REPL! Type 'exit' to quit.")
	fmt.Println("Type 'help' to see the list of available commands.")
}

// 打印帮助信息
func printHelp() {
	fmt.Println("Available commands:")
	fmt.Println("  descriptors                    List registered connector types.")
	fmt.Println("  trigger <configDir>            Connect, trigger a single read and print the values.")
	fmt.Println("  write <configDir> <payload>    Connect and write a single payload.")
	fmt.Println("  help                           Show this help message.")
	fmt.Println("  exit                           Exit the REPL.")
}

func execute(args []string) {
	rootCmd := command.NewRootCommand()
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("Error: %v\n", err)
	}
}

func main() {
	// 带参数时直接执行一次
	if len(os.Args) > 1 {
		rootCmd := command.NewRootCommand()
		if err := rootCmd.Execute(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	scanner := bufio.NewScanner(os.Stdin)
	printWelcomeMessage()

	// 进入 REPL 循环
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(input) {
		case "exit":
			fmt.Println("Exiting LinkGate CLI...")
			return
		case "help":
			printHelp()
			continue
		}

		args := strings.Fields(input)
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "descriptors", "trigger", "write":
			execute(args)
		default:
			fmt.Printf("Unknown command: %s\n", args[0])
			fmt.Println("Type 'help' to see the list of available commands.")
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
	}
}
