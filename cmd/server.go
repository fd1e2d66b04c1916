package cmd

import (
	"RadioRoyal/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动推流中继与解析服务",
	Long:  `启动 HTTP 服务：/ws 推流中继（WebSocket -> ffmpeg -> RTMP）、/youtube 解析代理、/status 与 /broadcasts。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Start(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
