package gateway

import (
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/matiasleandrokruk/xlmsession/internal/domain/session"
)

// Conversions between session types and dynamic protobuf messages. Shared by Client and the
// server-side handlers so both ends agree on field names.

func fieldOf(m protoreflect.Message, name string) protoreflect.FieldDescriptor {
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		panic("gateway: " + string(m.Descriptor().Name()) + " has no field " + name)
	}
	return fd
}

func setString(m protoreflect.Message, name, v string) {
	m.Set(fieldOf(m, name), protoreflect.ValueOfString(v))
}

func getString(m protoreflect.Message, name string) string {
	return m.Get(fieldOf(m, name)).String()
}

func setBool(m protoreflect.Message, name string, v bool) {
	m.Set(fieldOf(m, name), protoreflect.ValueOfBool(v))
}

func getBool(m protoreflect.Message, name string) bool {
	return m.Get(fieldOf(m, name)).Bool()
}

// ─── registration / acks ─────────────────────────────────────────────────────

func encodeRegistration(name, clientID string) *dynamicpb.Message {
	m := newMessage(msgClientRegistrationRequest)
	setString(m, "client_name", name)
	setString(m, "client_id", clientID)
	return m
}

func decodeRegistration(m protoreflect.Message) (name, clientID string) {
	return getString(m, "client_name"), getString(m, "client_id")
}

func encodeAck(msgName string, ack session.Ack) *dynamicpb.Message {
	m := newMessage(msgName)
	setBool(m, "success", ack.Success)
	setString(m, "message", ack.Message)
	return m
}

func decodeAck(m protoreflect.Message) session.Ack {
	return session.Ack{Success: getBool(m, "success"), Message: getString(m, "message")}
}

func encodeClientID(msgName, clientID string) *dynamicpb.Message {
	m := newMessage(msgName)
	setString(m, "client_id", clientID)
	return m
}

// ─── providers ───────────────────────────────────────────────────────────────

func fillProviderInfo(m protoreflect.Message, pd session.ProviderDescriptor) {
	setString(m, "provider_name", pd.Name)
	setString(m, "service_level", pd.ServiceLevel)
	caps := m.Mutable(fieldOf(m, "capabilities")).Map()
	for name, ok := range pd.Capabilities {
		caps.Set(protoreflect.ValueOfString(name).MapKey(), protoreflect.ValueOfBool(ok))
	}
}

func decodeProviderInfo(m protoreflect.Message) session.ProviderDescriptor {
	pd := session.ProviderDescriptor{
		Name:         getString(m, "provider_name"),
		ServiceLevel: getString(m, "service_level"),
		Capabilities: session.Capabilities{},
	}
	m.Get(fieldOf(m, "capabilities")).Map().Range(func(k protoreflect.MapKey, v protoreflect.Value) bool {
		pd.Capabilities[k.String()] = v.Bool()
		return true
	})
	return pd
}

func encodeProviderCapabilities(pd session.ProviderDescriptor) *dynamicpb.Message {
	m := newMessage(msgProviderCapabilitiesResponse)
	fillProviderInfo(m, pd)
	return m
}

func encodeProvidersList(providers []session.ProviderDescriptor) *dynamicpb.Message {
	m := newMessage(msgProvidersListResponse)
	list := m.Mutable(fieldOf(m, "providers")).List()
	for _, pd := range providers {
		el := list.NewElement()
		fillProviderInfo(el.Message(), pd)
		list.Append(el)
	}
	return m
}

func decodeProvidersList(m protoreflect.Message) []session.ProviderDescriptor {
	list := m.Get(fieldOf(m, "providers")).List()
	out := make([]session.ProviderDescriptor, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		out = append(out, decodeProviderInfo(list.Get(i).Message()))
	}
	return out
}

func encodeProviderRequest(clientID, provider string) *dynamicpb.Message {
	m := newMessage(msgProviderRequest)
	setString(m, "client_id", clientID)
	setString(m, "provider", provider)
	return m
}

func decodeProviderRequest(m protoreflect.Message) (clientID, provider string) {
	return getString(m, "client_id"), getString(m, "provider")
}

// ─── selection ───────────────────────────────────────────────────────────────

func encodeSelection(clientID string, sel session.CapabilitySelection) *dynamicpb.Message {
	m := newMessage(msgProviderSelectionRequest)
	setString(m, "client_id", clientID)
	entries := m.Mutable(fieldOf(m, "provider_capabilities")).Map()
	for _, provider := range sel.Providers() {
		v := entries.NewValue()
		caps := v.Message().Mutable(fieldOf(v.Message(), "capabilities")).List()
		for _, c := range sel[provider] {
			caps.Append(protoreflect.ValueOfString(c))
		}
		entries.Set(protoreflect.ValueOfString(provider).MapKey(), v)
	}
	return m
}

func decodeSelection(m protoreflect.Message) (string, session.CapabilitySelection) {
	sel := session.CapabilitySelection{}
	m.Get(fieldOf(m, "provider_capabilities")).Map().Range(func(k protoreflect.MapKey, v protoreflect.Value) bool {
		list := v.Message().Get(fieldOf(v.Message(), "capabilities")).List()
		caps := make([]string, 0, list.Len())
		for i := 0; i < list.Len(); i++ {
			caps = append(caps, list.Get(i).String())
		}
		sel[k.String()] = caps
		return true
	})
	return getString(m, "client_id"), sel
}

// ─── chat ────────────────────────────────────────────────────────────────────

func encodeChatRequest(req session.ChatRequest) *dynamicpb.Message {
	m := newMessage(msgChatRequest)
	setString(m, "client_id", req.ClientID)
	setString(m, "prompt", req.Prompt)
	setString(m, "provider", req.Provider)
	setString(m, "model_name", req.Model)
	return m
}

func decodeChatRequest(m protoreflect.Message) session.ChatRequest {
	return session.ChatRequest{
		ClientID: getString(m, "client_id"),
		Prompt:   getString(m, "prompt"),
		Provider: getString(m, "provider"),
		Model:    getString(m, "model_name"),
	}
}

func encodeCompletion(text string) *dynamicpb.Message {
	m := newMessage(msgChatResponse)
	setString(m, "completion", text)
	return m
}

func encodeToken(token string) *dynamicpb.Message {
	m := newMessage(msgChatResponsePart)
	setString(m, "token", token)
	return m
}

// ─── embedding ───────────────────────────────────────────────────────────────

func encodeEmbeddingRequest(clientID, text string) *dynamicpb.Message {
	m := newMessage(msgEmbeddingRequest)
	setString(m, "client_id", clientID)
	setString(m, "text", text)
	return m
}

func decodeEmbeddingRequest(m protoreflect.Message) (clientID, text string) {
	return getString(m, "client_id"), getString(m, "text")
}

func encodeEmbedding(vector []float32) *dynamicpb.Message {
	m := newMessage(msgEmbeddingResponse)
	list := m.Mutable(fieldOf(m, "embedding")).List()
	for _, f := range vector {
		list.Append(protoreflect.ValueOfFloat32(f))
	}
	return m
}

func decodeEmbedding(m protoreflect.Message) []float32 {
	list := m.Get(fieldOf(m, "embedding")).List()
	out := make([]float32, list.Len())
	for i := range out {
		out[i] = float32(list.Get(i).Float())
	}
	return out
}
