package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

func smells(m dsl.Matcher) {
	// Two guards in a row returning the same value can be merged with ||.
	m.Match(`if $c1 { return $ret }; if $c2 { return $ret }`).
		Report(`two consecutive guards return the same value; consider merging conditions with ||`).
		Suggest(`if $c1 || $c2 { return $ret }`)

	m.Match(`if $c1 { continue }; if $c2 { continue }`).
		Report(`two consecutive continues; consider merging conditions with ||`).
		Suggest(`if $c1 || $c2 { continue }`)

	m.Match(`for $*_ { for $*_ { $*_ } }`).
		Report(`nested for-loop; consider extracting inner loop logic or reducing algorithmic complexity`)
}

// logging: components take an injected *slog.Logger.
func logging(m dsl.Matcher) {
	m.Match(`slog.Info($*_)`, `slog.Warn($*_)`, `slog.Error($*_)`, `slog.Debug($*_)`, `slog.Default()`).
		Where(!m.File().Name.Matches(`_test\.go$`) && !m.File().PkgPath.Matches(`/cmd/`)).
		Report(`use the injected *slog.Logger instead of the package-level slog logger`)

	m.Match(`log.Printf($*_)`, `log.Println($*_)`, `log.Fatal($*_)`, `log.Fatalf($*_)`).
		Report(`use log/slog`)
}

// contexts: blocking calls inherit the caller's context.
func contexts(m dsl.Matcher) {
	m.Match(`context.Background()`, `context.TODO()`).
		Where(m.File().PkgPath.Matches(`/internal/domain/`) && !m.File().Name.Matches(`_test\.go$`)).
		Report(`domain code should propagate the caller's context; use context.WithoutCancel to detach`)
}

// grpcStatus: status errors with no formatting arguments.
func grpcStatus(m dsl.Matcher) {
	m.Match(`status.Errorf($code, $msg)`).
		Where(m["msg"].Const).
		Report(`status.Errorf without arguments`).
		Suggest(`status.Error($code, $msg)`)
}
