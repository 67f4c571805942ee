package transport

import "net/http"

const notFoundBody = `<html>
<head><title>Not Found</title></head>
<body><h1>404 Not Found</h1></body>
</html>
`

// NotFound writes the stock 404 reply used by the router for unknown codecs
// and unmatched paths.
func NotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(notFoundBody))
}

// ServerName is reported in the Server header of streamed responses
const ServerName = "web_video_server"
