package obj

import (
	"github.com/spf13/cobra"
)

// ObjCmd represents the obj command
var ObjCmd = &cobra.Command{
	Use:   "obj",
	Short: "Write and inspect ELF64 object files",
}

func init() {
}
