package main

import (
	"log/slog"

	"github.com/rickgao/wallet-notify/internal/archive"
	"github.com/rickgao/wallet-notify/internal/realtime"
)

// archivedTypes are the server pushes written to the archive.
var archivedTypes = []string{
	realtime.TypeNotification,
	realtime.TypeWalletUpdate,
	realtime.TypeImportProgress,
	realtime.TypeSystemStatus,
	realtime.TypeAdminBroadcast,
	realtime.TypeError,
}

// registerHandlers wires lifecycle logging, per-type logging, the archive
// writer (if any) and the configured topic subscriptions.
func registerHandlers(client realtime.Client, writer *archive.Writer, topics []string, logger *slog.Logger) {
	client.OnConnect(func() {
		logger.Info("realtime connected")
	})
	client.OnDisconnect(func(ev realtime.CloseEvent) {
		if ev.Normal() {
			logger.Info("realtime disconnected", "code", ev.Code)
			return
		}
		logger.Warn("realtime connection lost", "code", ev.Code, "reason", ev.Reason)
	})
	client.OnError(func(err error) {
		logger.Warn("realtime error", "error", err)
	})
	client.OnGiveUp(func(attempts int) {
		logger.Error("realtime reconnect abandoned", "attempts", attempts)
	})

	client.On(realtime.TypeSubscribed, realtime.NewHandler(logAck(logger)))
	client.On(realtime.TypeUnsubscribed, realtime.NewHandler(logAck(logger)))
	client.On(realtime.TypeNotification, realtime.NewHandler(logNotification(logger)))
	client.On(realtime.TypeWalletUpdate, realtime.NewHandler(logWalletUpdate(logger)))
	client.On(realtime.TypeImportProgress, realtime.NewHandler(logImportProgress(logger)))
	client.On(realtime.TypeSystemStatus, realtime.NewHandler(logSystemStatus(logger)))
	client.On(realtime.TypeAdminBroadcast, realtime.NewHandler(logAdminBroadcast(logger)))
	client.On(realtime.TypeStats, realtime.NewHandler(func(m realtime.Message) {
		logger.Debug("server stats", "payload", string(m.Data))
	}))
	client.On(realtime.TypeError, realtime.NewHandler(logServerError(logger)))

	if writer != nil {
		h := writer.Handler()
		for _, t := range archivedTypes {
			client.On(t, h)
		}
	}

	topicHandler := realtime.NewHandler(func(m realtime.Message) {
		logger.Debug("topic message", "topic", m.Topic, "type", m.Type)
	})
	for _, topic := range topics {
		client.Subscribe(topic, topicHandler)
	}
}

func logAck(logger *slog.Logger) func(realtime.Message) {
	return func(m realtime.Message) {
		var ack realtime.SubscriptionAck
		if err := m.Decode(&ack); err != nil {
			logger.Warn("malformed subscription ack", "error", err)
			return
		}
		logger.Debug("subscription acknowledged", "type", ack.Type, "topic", ack.Topic, "success", ack.Success)
	}
}

func logNotification(logger *slog.Logger) func(realtime.Message) {
	return func(m realtime.Message) {
		var n realtime.Notification
		if err := m.Decode(&n); err != nil {
			logger.Warn("malformed notification", "error", err)
			return
		}
		logger.Info("notification",
			"title", n.Data["title"],
			"message", n.Data["message"],
			"timestamp", n.Timestamp,
		)
	}
}

func logWalletUpdate(logger *slog.Logger) func(realtime.Message) {
	return func(m realtime.Message) {
		var u realtime.WalletUpdate
		if err := m.Decode(&u); err != nil {
			logger.Warn("malformed wallet update", "error", err)
			return
		}
		logger.Info("wallet update", "wallet", u.WalletAddress, "timestamp", u.Timestamp)
	}
}

func logImportProgress(logger *slog.Logger) func(realtime.Message) {
	return func(m realtime.Message) {
		var p realtime.ImportProgress
		if err := m.Decode(&p); err != nil {
			logger.Warn("malformed import progress", "error", err)
			return
		}
		logger.Info("import progress", "task_id", p.TaskID, "data", string(p.Data))
	}
}

func logSystemStatus(logger *slog.Logger) func(realtime.Message) {
	return func(m realtime.Message) {
		var s realtime.SystemStatus
		if err := m.Decode(&s); err != nil {
			logger.Warn("malformed system status", "error", err)
			return
		}
		logger.Info("system status", "data", string(s.Data), "timestamp", s.Timestamp)
	}
}

func logAdminBroadcast(logger *slog.Logger) func(realtime.Message) {
	return func(m realtime.Message) {
		var b realtime.AdminBroadcast
		if err := m.Decode(&b); err != nil {
			logger.Warn("malformed admin broadcast", "error", err)
			return
		}
		logger.Info("admin broadcast", "sender", b.Sender, "data", string(b.Data))
	}
}

func logServerError(logger *slog.Logger) func(realtime.Message) {
	return func(m realtime.Message) {
		var e realtime.ServerError
		if err := m.Decode(&e); err != nil {
			logger.Warn("malformed server error", "error", err)
			return
		}
		logger.Warn("server reported error", "message", e.Message)
	}
}
