package turns

// Standard keys used in Block.Payload maps
const (
	PayloadKeyText   = "text"
	PayloadKeyID     = "id"
	PayloadKeyName   = "name"
	PayloadKeyArgs   = "args"
	PayloadKeyResult = "result"
	PayloadKeyError  = "error"
	// PayloadKeySourceURL and PayloadKeySourceTitle carry citation references
	PayloadKeySourceURL   = "url"
	PayloadKeySourceTitle = "title"
	// PayloadKeyMediaType and PayloadKeyData carry generated file references
	PayloadKeyMediaType = "media_type"
	PayloadKeyData      = "data"
)

// Standard keys used in Block.Metadata maps
const (
	// MetaKeyProviderExecuted marks a tool_call/tool_result pair the provider
	// already executed server-side.
	MetaKeyProviderExecuted = "provider_executed"
	// MetaKeyDynamic marks a tool call for a tool that was not statically
	// declared in the request.
	MetaKeyDynamic = "dynamic"
)
