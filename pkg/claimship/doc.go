// Package claimship provides an embeddable claims delivery agent.
//
// Claimship stages extracted healthcare claims in a local SQLite database,
// sends them to the backend in batches, retries failures with backoff and
// resumes partially delivered batches. Every Claim a worker touches is
// obtained through a lease, and startup always runs crash recovery before
// any worker starts.
//
// # Basic Usage
//
//	cfg := claimship.Config{
//	    DBPath:          "/var/lib/claimship/claimship.db",
//	    ProviderDhsCode: "P1",
//	    ServiceURL:      "https://claims.example.com",
//	    AuthKey:         "your-api-key",
//	    InboxDir:        "/var/lib/claimship/inbox",
//	}
//
//	agent, err := claimship.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer agent.Close()
//
//	if err := agent.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// ... run until shutdown signal ...
//
//	if err := agent.Stop(); err != nil {
//	    log.Printf("shutdown error: %v", err)
//	}
//
// # Extraction
//
// Claims enter through an [ExtractionSource]. Set Config.InboxDir to read
// JSON bundle files from a directory, or pass your own source with
// [WithSource].
//
// # Events and Plugins
//
// Implement [EventHandler] (embedding [BaseEventHandler]) and pass it with
// [WithEventHandler] to observe state changes, recovery and worker
// progress. Plugins registered with [WithPlugin] are initialized after
// recovery and may adjust [Tunables] at runtime through PluginConfig.Tune.
//
// # Lifecycle States
//
//	Stopped -> Starting -> Running -> Stopping -> Stopped
//	Starting -> Crashed (recovery or plugin failure)
//	Stopping -> Crashed (shutdown timeout)
//	Crashed  -> Starting
package claimship
