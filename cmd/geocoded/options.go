package main

// Options is the root of the geocoded command line, parsed by go-flags.
type Options struct {
	Config string `short:"c" long:"config" description:"configuration file (.json, .yaml or .yml)"`

	Serve   *ServeCmd   `command:"serve" description:"Run the HTTP and gRPC gateway"`
	Reverse *ReverseCmd `command:"reverse" description:"Resolve one coordinate and print it as JSON"`
}

// Init allocates the sub-command named by the first argument so go-flags
// can populate it.
func (o *Options) Init(firstArg string) {
	switch firstArg {
	case "serve":
		o.Serve = &ServeCmd{root: o}
	case "reverse":
		o.Reverse = &ReverseCmd{root: o}
	}
}
