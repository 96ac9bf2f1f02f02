package ir

// LibraryVersion is the goby update layer version.
const LibraryVersion = "0.1.0"
