package fanout

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// instrumentationName はトレーサーとメーターの名前。
const instrumentationName = "github.com/nao1215/qgnotify/internal/fanout"

// Dispatcher は1つの通知カテゴリに束縛されたファンアウト処理のオーケストレータ。
// グループ化、購読者解決、配信リクエストの生成と重複排除を行い、配信チャネルに渡す。
// 呼び出しをまたいだ可変状態は持たないため、複数のgoroutineから同時に使用できる。
type Dispatcher[P comparable] struct {
	// meta はカテゴリのキーと権限ポリシー。
	meta Metadata
	// resolver は購読者を解決する協調オブジェクト。
	resolver Resolver
	// channel は配信チャネル。
	channel Channel[P]
	// concurrency はリソースグループを並行に解決する最大数。1なら逐次処理。
	concurrency int
	// logger はデバッグログの出力先。
	logger *slog.Logger
	// tracer はDispatchのスパンを生成する。
	tracer trace.Tracer
	// delivered はチャネルが報告した配信件数のカウンター。
	delivered metric.Int64Counter
}

// Option はDispatcherの設定を変更する関数。
type Option func(*options)

type options struct {
	concurrency int
	logger      *slog.Logger
}

// WithConcurrency はリソースグループの購読者解決を並行に行う最大数を設定する。
// 1以下を指定した場合は逐次処理になる。
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = max(n, 1)
	}
}

// WithLogger はデバッグログの出力先を設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewDispatcher は新しいDispatcherを生成する。
func NewDispatcher[P comparable](meta Metadata, resolver Resolver, channel Channel[P], opts ...Option) *Dispatcher[P] {
	o := options{
		concurrency: 1,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}

	delivered, err := otel.Meter(instrumentationName).Int64Counter(
		"fanout.delivered",
		metric.WithDescription("配信チャネルが報告した配信件数"),
	)
	if err != nil {
		delivered = noop.Int64Counter{}
	}

	return &Dispatcher[P]{
		meta:        meta,
		resolver:    resolver,
		channel:     channel,
		concurrency: o.concurrency,
		logger:      o.logger,
		tracer:      otel.Tracer(instrumentationName),
		delivered:   delivered,
	}
}

// Metadata はディスパッチャーの登録情報を返す。
func (d *Dispatcher[P]) Metadata() Metadata {
	return d.meta
}

// Dispatch は通知のバッチを配信し、チャネルが報告した配信件数を返す。
// 購読者解決またはチャネルのエラーは呼び出し全体を中断し、件数は返さない。
// 一部のリソースで解決に失敗した場合も他のリソースへは配信しない（all-or-nothing）。
func (d *Dispatcher[P]) Dispatch(ctx context.Context, notifications []Notification[P]) (int, error) {
	ctx, span := d.tracer.Start(ctx, "fanout.Dispatch", trace.WithAttributes(
		attribute.String("fanout.key", d.meta.Key),
		attribute.Int("fanout.batch_size", len(notifications)),
	))
	defer span.End()

	count, err := d.dispatch(ctx, span, notifications)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	span.SetAttributes(attribute.Int("fanout.delivered", count))
	return count, nil
}

func (d *Dispatcher[P]) dispatch(ctx context.Context, span trace.Span, notifications []Notification[P]) (int, error) {
	if len(notifications) == 0 || !d.channel.IsActive() {
		return 0, nil
	}

	groups := Group(notifications)
	span.SetAttributes(attribute.Int("fanout.groups", len(groups)))
	if len(groups) == 0 {
		return 0, nil
	}

	requests, err := d.collect(ctx, groups, len(notifications))
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("fanout.requests", len(requests)))
	if len(requests) == 0 {
		return 0, nil
	}

	count, err := d.channel.Deliver(ctx, requests)
	if err != nil {
		return 0, fmt.Errorf("%w: key=%s: %w", ErrDelivery, d.meta.Key, err)
	}
	d.delivered.Add(ctx, int64(count), metric.WithAttributes(attribute.String("fanout.key", d.meta.Key)))
	d.logger.DebugContext(ctx, "通知を配信しました",
		"key", d.meta.Key,
		"groups", len(groups),
		"requests", len(requests),
		"delivered", count,
	)
	return count, nil
}

// collect はグループごとに配信リクエストを生成し、重複を除いた集合に統合する。
// 統合はグループの順序どおりに単一のgoroutineで行う。
func (d *Dispatcher[P]) collect(ctx context.Context, groups []ResourceGroup[P], sizeHint int) ([]DeliveryRequest[P], error) {
	seqs := make([]iter.Seq[DeliveryRequest[P]], len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, group := range groups {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			seq, err := Build(gctx, d.resolver, d.meta, group)
			if err != nil {
				return err
			}
			seqs[i] = seq
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[DeliveryRequest[P]]struct{}, sizeHint)
	requests := make([]DeliveryRequest[P], 0, sizeHint)
	for _, seq := range seqs {
		for req := range seq {
			if _, dup := seen[req]; dup {
				continue
			}
			seen[req] = struct{}{}
			requests = append(requests, req)
		}
	}
	return requests, nil
}
