package cmd

import (
	"github.com/ecousins25/ogmash-v2/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动Ogmash音频分发服务器",
	Long:  `启动Ogmash音乐系统的HTTP服务器，提供音乐清单和音频字节范围分发`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
