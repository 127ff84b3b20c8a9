package core

// Version is the chatbook code version.  It is also written into
// transcript file headers.
var Version = "0.3.0"
