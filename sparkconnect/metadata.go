package sparkconnect

// gRPC service and method names of the Spark Connect protocol.
const (
	ServiceName       = "spark.connect.SparkConnectService"
	ExecutePlanMethod = "/" + ServiceName + "/ExecutePlan"
)

// MetaAuthorization carries the bearer token; the user agent goes through
// grpc.WithUserAgent instead.
const MetaAuthorization = "authorization"

// DefaultUserAgent is sent unless the connection string overrides it.
const DefaultUserAgent = "_SPARK_CONNECT_GO"
