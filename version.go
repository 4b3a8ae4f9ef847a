package main

// Version of the registry tooling, surfaced by the version command.
var Version = "0.1.0"
