package obj

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Manu343726/escarabajo/pkg/backend/elf"
	"github.com/Manu343726/escarabajo/pkg/backend/manifest"
	"github.com/spf13/cobra"
)

var (
	writeOutputPath   string
	writeOutputFormat string
)

var writeCmd = &cobra.Command{
	Use:   "write <module-manifest.yaml>",
	Short: "Write a module manifest as an ELF64 file",
	Long: `Builds the module described by a YAML manifest and serializes it as an ELF64 file.

Output formats:
  object      - Produces a relocatable .o object with symbols and relocations (default)
  executable  - Produces a minimal static executable with two loadable segments

Examples:
  # Write a relocatable object
  escarabajo obj write module.yaml

  # Write a static executable
  escarabajo obj write -f executable -o module module.yaml`,
	Args: cobra.ExactArgs(1),
	Run:  runWrite,
}

func init() {
	ObjCmd.AddCommand(writeCmd)

	writeCmd.Flags().StringVarP(&writeOutputPath, "output", "o", "", "Output file path (default: based on input)")
	writeCmd.Flags().StringVarP(&writeOutputFormat, "format", "f", "object", "Output format: object, executable")
}

func runWrite(cmd *cobra.Command, args []string) {
	manifestPath := args[0]

	module, err := manifest.Load(manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading module manifest: %v\n", err)
		os.Exit(1)
	}

	var output []byte
	var permissions os.FileMode

	switch writeOutputFormat {
	case "object":
		output, err = elf.WriteRelocatable(module, nil)
		permissions = 0o644
	case "executable":
		output, err = elf.WriteExecutable(module, nil)
		permissions = 0o755
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown output format %q (expected object or executable)\n", writeOutputFormat)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", writeOutputFormat, err)
		os.Exit(1)
	}

	outputPath := writeOutputPath
	if outputPath == "" {
		outputPath = defaultOutputPath(manifestPath, writeOutputFormat)
	}

	if err := os.WriteFile(outputPath, output, permissions); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", outputPath, err)
		os.Exit(1)
	}

	slog.Info("module serialized", "output", outputPath, "format", writeOutputFormat, "bytes", len(output))
}

// Derives the output path from the manifest path: objects get a .o
// extension, executables get the bare name
func defaultOutputPath(manifestPath, format string) string {
	base := strings.TrimSuffix(manifestPath, ".yaml")
	base = strings.TrimSuffix(base, ".yml")
	if format == "object" {
		return base + ".o"
	}
	return base
}
