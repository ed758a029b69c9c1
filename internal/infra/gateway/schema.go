// Package gateway binds session.Gateway to the XlmEcosystemService gRPC contract.
//
// The protobuf schema is assembled at init from descriptorpb and messages are handled as
// dynamicpb values, so the binding needs no generated code. The same schema backs both the
// client (Client) and the server side (Register).
package gateway

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// ServiceName is the fully qualified service name. The contract declares no proto package.
const ServiceName = "XlmEcosystemService"

// Full gRPC method names.
const (
	MethodRegisterClient          = "/" + ServiceName + "/registerClient"
	MethodListProviders           = "/" + ServiceName + "/listProviders"
	MethodGetProviderCapabilities = "/" + ServiceName + "/getProviderCapabilities"
	MethodSetPreferredProviders   = "/" + ServiceName + "/setPreferredProviders"
	MethodSyncChat                = "/" + ServiceName + "/syncChat"
	MethodAsyncChat               = "/" + ServiceName + "/asyncChat"
	MethodGetEmbedding            = "/" + ServiceName + "/getEmbedding"
	MethodUnregisterClient        = "/" + ServiceName + "/unregisterClient"
)

// Message names.
const (
	msgClientRegistrationRequest    = "ClientRegistrationRequest"
	msgClientRegistrationResponse   = "ClientRegistrationResponse"
	msgEmptyRequest                 = "EmptyRequest"
	msgProviderInfo                 = "ProviderInfo"
	msgProvidersListResponse        = "ProvidersListResponse"
	msgProviderRequest              = "ProviderRequest"
	msgProviderCapabilitiesResponse = "ProviderCapabilitiesResponse"
	msgProviderCapabilitiesRequest  = "ProviderCapabilitiesRequest"
	msgProviderSelectionRequest     = "ProviderSelectionRequest"
	msgSelectionResponse            = "SelectionResponse"
	msgChatRequest                  = "ChatRequest"
	msgChatResponse                 = "ChatResponse"
	msgChatResponsePart             = "ChatResponsePart"
	msgEmbeddingRequest             = "EmbeddingRequest"
	msgEmbeddingResponse            = "EmbeddingResponse"
	msgClientUnregistrationRequest  = "ClientUnregistrationRequest"
	msgClientUnregistrationResponse = "ClientUnregistrationResponse"
)

var schemaFile = mustBuildSchema()

// File returns the runtime descriptor of xlm_eco_api.proto.
func File() protoreflect.FileDescriptor { return schemaFile }

func messageDescriptor(name string) protoreflect.MessageDescriptor {
	md := schemaFile.Messages().ByName(protoreflect.Name(name))
	if md == nil {
		panic("gateway: unknown message " + name)
	}
	return md
}

func newMessage(name string) *dynamicpb.Message {
	return dynamicpb.NewMessage(messageDescriptor(name))
}

func mustBuildSchema() protoreflect.FileDescriptor {
	fd, err := protodesc.NewFile(schemaProto(), new(protoregistry.Files))
	if err != nil {
		panic(fmt.Sprintf("gateway: build schema: %v", err))
	}
	return fd
}

func schemaProto() *descriptorpb.FileDescriptorProto {
	str := descriptorpb.FieldDescriptorProto_TYPE_STRING
	boolean := descriptorpb.FieldDescriptorProto_TYPE_BOOL

	ack := func(name string) *descriptorpb.DescriptorProto {
		return message(name, scalar("success", 1, boolean), scalar("message", 2, str))
	}
	providerInfo := func(name string) *descriptorpb.DescriptorProto {
		m := message(name,
			scalar("provider_name", 1, str),
			scalar("service_level", 2, str),
			mapField(name, "capabilities", 3),
		)
		m.NestedType = []*descriptorpb.DescriptorProto{
			mapEntry("CapabilitiesEntry", scalar("value", 2, boolean)),
		}
		return m
	}

	selection := message(msgProviderSelectionRequest,
		scalar("client_id", 1, str),
		mapField(msgProviderSelectionRequest, "provider_capabilities", 2),
	)
	selection.NestedType = []*descriptorpb.DescriptorProto{
		mapEntry("ProviderCapabilitiesEntry", messageField("value", 2, msgProviderCapabilitiesRequest)),
	}

	return &descriptorpb.FileDescriptorProto{
		Name:   proto.String("xlm_eco_api.proto"),
		Syntax: proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message(msgClientRegistrationRequest, scalar("client_name", 1, str), scalar("client_id", 2, str)),
			ack(msgClientRegistrationResponse),
			message(msgEmptyRequest),
			providerInfo(msgProviderInfo),
			message(msgProvidersListResponse, repeated(messageField("providers", 1, msgProviderInfo))),
			message(msgProviderRequest, scalar("client_id", 1, str), scalar("provider", 2, str)),
			providerInfo(msgProviderCapabilitiesResponse),
			message(msgProviderCapabilitiesRequest, repeated(scalar("capabilities", 1, str))),
			selection,
			ack(msgSelectionResponse),
			message(msgChatRequest,
				scalar("client_id", 1, str),
				scalar("prompt", 2, str),
				scalar("provider", 3, str),
				scalar("model_name", 4, str),
			),
			message(msgChatResponse, scalar("completion", 1, str)),
			message(msgChatResponsePart, scalar("token", 1, str)),
			message(msgEmbeddingRequest, scalar("client_id", 1, str), scalar("text", 2, str)),
			message(msgEmbeddingResponse, repeated(scalar("embedding", 1, descriptorpb.FieldDescriptorProto_TYPE_FLOAT))),
			message(msgClientUnregistrationRequest, scalar("client_id", 1, str)),
			ack(msgClientUnregistrationResponse),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String(ServiceName),
			Method: []*descriptorpb.MethodDescriptorProto{
				method("registerClient", msgClientRegistrationRequest, msgClientRegistrationResponse, false),
				method("listProviders", msgEmptyRequest, msgProvidersListResponse, false),
				method("getProviderCapabilities", msgProviderRequest, msgProviderCapabilitiesResponse, false),
				method("setPreferredProviders", msgProviderSelectionRequest, msgSelectionResponse, false),
				method("syncChat", msgChatRequest, msgChatResponse, false),
				method("asyncChat", msgChatRequest, msgChatResponsePart, true),
				method("getEmbedding", msgEmbeddingRequest, msgEmbeddingResponse, false),
				method("unregisterClient", msgClientUnregistrationRequest, msgClientUnregistrationResponse, false),
			},
		}},
	}
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func scalar(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func messageField(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	f := scalar(name, number, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	f.TypeName = proto.String("." + typeName)
	return f
}

func repeated(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

// mapField declares map<string, V> field on parent; the entry type is parent.<Field>Entry.
func mapField(parent, name string, number int32) *descriptorpb.FieldDescriptorProto {
	return repeated(messageField(name, number, parent+"."+entryName(name)))
}

func mapEntry(name string, value *descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	m := message(name, scalar("key", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING), value)
	m.Options = &descriptorpb.MessageOptions{MapEntry: proto.Bool(true)}
	return m
}

// entryName converts snake_case to the CamelCaseEntry name protoc generates for map fields.
func entryName(field string) string {
	out := make([]byte, 0, len(field)+5)
	upper := true
	for i := 0; i < len(field); i++ {
		c := field[i]
		if c == '_' {
			upper = true
			continue
		}
		if upper && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = false
		out = append(out, c)
	}
	return string(out) + "Entry"
}

func method(name, in, out string, serverStreaming bool) *descriptorpb.MethodDescriptorProto {
	m := &descriptorpb.MethodDescriptorProto{
		Name:       proto.String(name),
		InputType:  proto.String("." + in),
		OutputType: proto.String("." + out),
	}
	if serverStreaming {
		m.ServerStreaming = proto.Bool(true)
	}
	return m
}
