package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

func smells(m dsl.Matcher) {
	// Two consecutive guards with the same return can be merged with ||.
	//      if a { return err }
	//      if b { return err }
	//   => if a || b { return err }
	m.Match(`if $c1 { return $ret }; if $c2 { return $ret }`).
		Report(`two consecutive guards return the same value; consider merging conditions with ||`).
		Suggest(`if $c1 || $c2 { return $ret }`)

	m.Match(`if $c1 { continue }; if $c2 { continue }`).
		Report(`two consecutive continues; consider merging conditions with ||`).
		Suggest(`if $c1 || $c2 { continue }`)

	m.Match(`for $*_ { for $*_ { $*_ } }`).
		Report(`nested for-loop; consider extracting inner loop logic or reducing algorithmic complexity`)
}

// websocketWrites keeps every data frame behind the per-connection mutex in conn.go.
func websocketWrites(m dsl.Matcher) {
	m.Import("github.com/gorilla/websocket")

	m.Match(`$c.WriteMessage($*_)`, `$c.WriteJSON($*_)`, `$c.NextWriter($*_)`).
		Where(m["c"].Type.Is(`*websocket.Conn`) &&
			!m.File().Name.Matches(`^conn\.go$`) &&
			!m.File().Name.Matches(`_test\.go$`)).
		Report(`write to the websocket through conn.Emit so frames on one connection stay serialized`)
}

// providerClients rejects the shared default client; adapters carry their own *http.Client.
func providerClients(m dsl.Matcher) {
	m.Match(`http.DefaultClient`, `http.Get($*_)`, `http.Post($*_)`).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Report(`use the adapter's configured *http.Client instead of the package-level default`)
}

// stdoutPrints flags ad-hoc printing outside cmd/; log through zerolog instead.
func stdoutPrints(m dsl.Matcher) {
	m.Match(`fmt.Println($*_)`, `fmt.Printf($*_)`, `fmt.Print($*_)`).
		Where(!m.File().PkgPath.Matches(`/cmd/`) && !m.File().Name.Matches(`_test\.go$`)).
		Report(`use the component's zerolog logger instead of printing to stdout`)
}
