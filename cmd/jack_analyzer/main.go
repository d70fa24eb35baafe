package main

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"n2t.dev/toolchain/pkg/jack"

	"github.com/teris-io/cli"
)

var Description = strings.ReplaceAll(`
The Jack Analyzer tokenizes and parses Jack source files and emits the XML parse tree for
each class, without generating any VM code. It's the tokenizer/parser half of the Jack
Compiler exposed as its own tool, useful for inspecting or testing the front-end in
isolation from code generation.
`, "\n", " ")

var JackAnalyzer = cli.New(Description).
	WithArg(cli.NewArg("inputs", "The source (.jack) files to be analyzed").
		AsOptional().WithType(cli.TypeString)).
	WithAction(Handler)

func Handler(args []string, options map[string]string) int {
	if len(args) < 1 {
		fmt.Printf("ERROR: Not enough arguments provided, use --help\n")
		return -1
	}

	TUs := []string{}
	for _, input := range args {
		filepath.Walk(input, func(p string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || filepath.Ext(p) != ".jack" {
				return nil
			}
			TUs = append(TUs, p)
			return nil
		})
	}

	for _, tu := range TUs {
		input, err := os.Open(tu)
		if err != nil {
			fmt.Printf("ERROR: Unable to open input file: %s\n", err)
			return -1
		}

		extension := path.Ext(tu)
		output, err := os.Create(fmt.Sprintf("%s.xml", strings.TrimSuffix(tu, extension)))
		if err != nil {
			input.Close()
			fmt.Printf("ERROR: Unable to open output file: %s\n", err)
			return -1
		}

		writer, err := jack.NewXMLWriter(input, output)
		if err != nil {
			input.Close()
			output.Close()
			fmt.Printf("ERROR: Unable to tokenize '%s': %s\n", tu, err)
			return -1
		}

		err = writer.Write()
		input.Close()
		output.Close()
		if err != nil {
			fmt.Printf("ERROR: Unable to complete 'analysis' pass on '%s': %s\n", tu, err)
			return -1
		}
	}

	return 0
}

func main() { os.Exit(JackAnalyzer.Run(os.Args, os.Stdout)) }
