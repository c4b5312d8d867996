package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"apoyo-citas/internal/config"
	"apoyo-citas/internal/db"
	"apoyo-citas/internal/domain"
	"apoyo-citas/internal/realtime"
	"apoyo-citas/internal/repository"
	"apoyo-citas/internal/service"
)

// Chat de terminal contra el motor de diálogo. Sin DATABASE_URL el
// transcript vive en memoria.
func main() {
	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	_ = godotenv.Load()

	logger := zap.NewExample()
	defer logger.Sync()

	var (
		messageRepo repository.MessageRepository = repository.NewMemoryMessageRepository()
		sessionLog  repository.ChatSessionRepository
	)
	opts := service.DefaultDialogueOptions()
	if cfg, err := config.LoadConfig(); err == nil {
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			log.Fatal(err)
		}
		defer pool.Close()
		if err := db.EnsureSchema(ctx, pool); err != nil {
			log.Fatal(err)
		}
		messageRepo = repository.NewPgMessageRepository(pool, false)
		sessionLog = repository.NewPgChatSessionRepository(pool)
		opts.PurgeOnEnd = cfg.ChatPurgeOnEnd
		opts.ContextTTL = time.Duration(cfg.ChatContextTTLHours) * time.Hour
	} else {
		fmt.Println("DATABASE_URL no configurada: transcript en memoria.")
	}

	kv := service.NewMemoryKVStore()
	transcript := service.NewTranscriptService(logger, messageRepo, realtime.NewFeed())
	dialogue := service.NewDialogueService(logger, transcript, kv, service.NewPreferencesService(kv), nil, opts)
	registry := service.NewConversationRegistry(logger, dialogue, sessionLog)

	conv, err := registry.Start(ctx, "cli-student")
	if err != nil {
		log.Fatal(err)
	}

	sub, err := conv.Messages(ctx)
	if err != nil {
		log.Fatal(err)
	}
	go printTranscript(os.Stdout, sub.C)

	fmt.Println("Escribe tu mensaje (/salir para terminar).")
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "/salir" {
			break
		}
		if err := conv.Send(ctx, line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}

	sub.Cancel()
	if err := registry.End(ctx, conv.UserID(), conv.SessionID()); err != nil {
		log.Printf("cerrar sesión: %v", err)
	}
	fmt.Println("Sesión terminada.")
}

// printTranscript imprime sólo los mensajes nuevos de cada snapshot.
func printTranscript(w io.Writer, snapshots <-chan []domain.Message) {
	seen := make(map[string]struct{})
	typing := false
	for msgs := range snapshots {
		nowTyping := false
		for _, m := range msgs {
			if m.IsTyping {
				nowTyping = true
				continue
			}
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			if m.Sender == domain.SenderUser {
				continue
			}
			fmt.Fprintf(w, "\nBot: %s\n", m.Text)
			for i, opt := range m.Options() {
				fmt.Fprintf(w, "  %d) %s\n", i+1, opt)
			}
			if m.Meta != nil && m.Meta.Emergency {
				fmt.Fprintln(w, "  [!] Si estás en peligro, llama al 911.")
			}
		}
		if nowTyping && !typing {
			fmt.Fprintln(w, "Bot está escribiendo...")
		}
		typing = nowTyping
	}
}
