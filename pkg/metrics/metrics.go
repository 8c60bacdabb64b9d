package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type WebSocketMetrics struct {
	ActiveConnections    prometheus.Gauge
	ConnectionsTotal     prometheus.Counter
	ConnectionDuration   prometheus.Histogram
	UnexpectedCloseCount prometheus.Counter
	AdmissionRejected    *prometheus.CounterVec
	Disconnects          *prometheus.CounterVec

	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	BytesSent        prometheus.Counter
	BytesReceived    prometheus.Counter
	CommandErrors    *prometheus.CounterVec
}

type HeartbeatMetrics struct {
	PingsSent     prometheus.Counter
	PongsReceived prometheus.Counter
	Warnings      prometheus.Counter
	ForcedCloses  prometheus.Counter
	ScanDuration  prometheus.Histogram
}

type RateLimitMetrics struct {
	Rejected *prometheus.CounterVec
}

type DispatchMetrics struct {
	Published       *prometheus.CounterVec
	Deliveries      prometheus.Counter
	DeliveryErrors  *prometheus.CounterVec
	FanoutSize      prometheus.Histogram
	PublishDuration prometheus.Histogram
}

type KafkaMetrics struct {
	MessagesProcessed *prometheus.CounterVec
	ConsumerLag       *prometheus.GaugeVec
	DeserializeErrors prometheus.Counter
	KafkaErrors       *prometheus.CounterVec
}

type RedisMetrics struct {
	SnapshotWrites        prometheus.Counter
	RedisOperationLatency prometheus.Histogram
	RedisOperationErrors  *prometheus.CounterVec
}

type RegistryMetrics struct {
	Connections   prometheus.Gauge
	Authenticated prometheus.Gauge
	Reconnecting  prometheus.Gauge
	Users         prometheus.Gauge
	Channels      prometheus.Gauge
	GameChannels  prometheus.Gauge
	Subscriptions prometheus.Gauge
}

type HttpMetrics struct {
	RequestsTotal      *prometheus.CounterVec
	ResponseStatusCode *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

type SystemMetrics struct {
	MemoryUsage    prometheus.Gauge
	GoroutineCount prometheus.Gauge
	GCCount        prometheus.Gauge
}

type Metrics struct {
	WebSocket WebSocketMetrics
	Heartbeat HeartbeatMetrics
	RateLimit RateLimitMetrics
	Dispatch  DispatchMetrics
	Kafka     KafkaMetrics
	Redis     RedisMetrics
	Registry  RegistryMetrics
	Http      HttpMetrics
	System    SystemMetrics

	gatherer prometheus.Gatherer
}

// NewMetrics registers every collector on reg. Passing nil uses the default
// Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	gatherer := prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)

	m := &Metrics{
		WebSocket: WebSocketMetrics{
			ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_active_connections",
				Help:      "Количество активных WebSocket соединений",
			}),
			ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_connections_total",
				Help:      "Общее количество установленных WebSocket соединений",
			}),
			ConnectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "websocket_connection_duration_seconds",
				Help:      "Длительность WebSocket соединений в секундах",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			}),
			UnexpectedCloseCount: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_unexpected_close_total",
				Help:      "Количество неожиданно закрытых соединений",
			}),
			AdmissionRejected: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_admission_rejected_total",
				Help:      "Количество отклонённых подключений, по причинам",
			}, []string{"reason"}),
			Disconnects: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_disconnects_total",
				Help:      "Количество закрытых соединений, по причинам",
			}, []string{"reason"}),
			MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_messages_sent_total",
				Help:      "Количество отправленных сообщений, по событиям",
			}, []string{"event"}),
			MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_messages_received_total",
				Help:      "Количество полученных сообщений, по событиям",
			}, []string{"event"}),
			BytesSent: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_bytes_sent_total",
				Help:      "Количество отправленных байт",
			}),
			BytesReceived: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_bytes_received_total",
				Help:      "Количество полученных байт",
			}),
			CommandErrors: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_command_errors_total",
				Help:      "Количество ошибок обработки команд клиента, по событиям",
			}, []string{"event"}),
		},
		Heartbeat: HeartbeatMetrics{
			PingsSent: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeat_pings_sent_total",
				Help:      "Количество отправленных ping",
			}),
			PongsReceived: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeat_pongs_received_total",
				Help:      "Количество полученных pong",
			}),
			Warnings: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeat_warnings_total",
				Help:      "Количество предупреждений о пропущенных heartbeat",
			}),
			ForcedCloses: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeat_forced_closes_total",
				Help:      "Количество соединений, закрытых по таймауту heartbeat",
			}),
			ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "heartbeat_scan_duration_seconds",
				Help:      "Длительность одного прохода heartbeat монитора",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
			}),
		},
		RateLimit: RateLimitMetrics{
			Rejected: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_rejected_total",
				Help:      "Количество запросов, отклонённых ограничителем, по лимитерам",
			}, []string{"limiter"}),
		},
		Dispatch: DispatchMetrics{
			Published: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_published_total",
				Help:      "Количество опубликованных событий, по типам каналов",
			}, []string{"kind"}),
			Deliveries: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_deliveries_total",
				Help:      "Количество успешных доставок событий соединениям",
			}),
			DeliveryErrors: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_delivery_errors_total",
				Help:      "Количество неудачных доставок, по причинам",
			}, []string{"reason"}),
			FanoutSize: factory.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_fanout_size",
				Help:      "Количество получателей одного события",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			}),
			PublishDuration: factory.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_publish_duration_seconds",
				Help:      "Время публикации события всем подписчикам",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 14),
			}),
		},
		Kafka: KafkaMetrics{
			MessagesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kafka_messages_processed_total",
				Help:      "Количество обработанных сообщений из Kafka, по темам",
			}, []string{"topic"}),
			ConsumerLag: factory.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "kafka_consumer_lag",
				Help:      "Отставание консюмера Kafka, по темам и партициям",
			}, []string{"topic", "partition"}),
			DeserializeErrors: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kafka_deserialize_errors_total",
				Help:      "Количество ошибок десериализации сообщений из Kafka",
			}),
			KafkaErrors: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kafka_errors_total",
				Help:      "Количество ошибок Kafka, по кодам ошибок",
			}, []string{"code"}),
		},
		Redis: RedisMetrics{
			SnapshotWrites: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "redis_stats_snapshot_writes_total",
				Help:      "Количество записей снимка статистики в Redis",
			}),
			RedisOperationLatency: factory.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "redis_operation_latency_seconds",
				Help:      "Время выполнения операций с Redis",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 8),
			}),
			RedisOperationErrors: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "redis_operation_errors_total",
				Help:      "Количество ошибок операций с Redis, по типам",
			}, []string{"operation"}),
		},
		Registry: RegistryMetrics{
			Connections: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registry_connections",
				Help:      "Количество соединений в реестре",
			}),
			Authenticated: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registry_authenticated_connections",
				Help:      "Количество аутентифицированных соединений",
			}),
			Reconnecting: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registry_reconnecting_connections",
				Help:      "Количество соединений в состоянии переподключения",
			}),
			Users: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registry_users",
				Help:      "Количество уникальных пользователей",
			}),
			Channels: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registry_channels",
				Help:      "Количество каналов с подписчиками",
			}),
			GameChannels: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registry_game_channels",
				Help:      "Количество игровых каналов с подписчиками",
			}),
			Subscriptions: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registry_subscriptions",
				Help:      "Общее количество подписок",
			}),
		},
		Http: HttpMetrics{
			RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Количество HTTP-запросов, по методам и путям",
			}, []string{"method", "path"}),
			ResponseStatusCode: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_response_status_code_total",
				Help:      "Количество HTTP-ответов, по кодам статуса",
			}, []string{"status_code"}),
			RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Время обработки HTTP-запроса",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
			}, []string{"path"}),
		},
		System: SystemMetrics{
			MemoryUsage: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_memory_usage_bytes",
				Help:      "Использование памяти приложением (в байтах)",
			}),
			GoroutineCount: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_goroutine_count",
				Help:      "Количество активных горутин",
			}),
			GCCount: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_gc_count",
				Help:      "Количество запусков сборки мусора",
			}),
		},
		gatherer: gatherer,
	}

	return m
}
