package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"RadioRoyal/core/studio"
	"RadioRoyal/logger"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
)

var (
	studioNoBroadcast bool
	studioConsole     string
)

var studioCmd = &cobra.Command{
	Use:   "studio",
	Short: "Run the headless studio: mixer, Auto DJ and broadcast client",
	Long: `Runs the mixing graph with the main and bed libraries, the Auto DJ
narration and the optional microphone, and streams the master mix to the
relay at RELAY_WS_URL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := studio.New(cfg, nil)
		if err != nil {
			return err
		}

		if studioConsole != "" {
			router := mux.NewRouter()
			st.Routes(router)
			console := &http.Server{Addr: studioConsole, Handler: router, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				logger.Info("studio console listening", logger.String("addr", studioConsole))
				if err := console.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("studio console failed", logger.ErrorField(err))
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				console.Shutdown(shutdownCtx)
			}()
		}

		return st.Run(ctx, !studioNoBroadcast)
	},
}

func init() {
	rootCmd.AddCommand(studioCmd)
	studioCmd.Flags().BoolVar(&studioNoBroadcast, "no-broadcast", false, "mix locally without streaming to the relay")
	studioCmd.Flags().StringVar(&studioConsole, "console", "127.0.0.1:8090", "operator console listen address, empty to disable")
}
