package common

const Version = "0.1.0"

const UserAgent = "streamcore/" + Version
