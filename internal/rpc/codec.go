package rpc

import (
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"geocode_gateway/internal/cache"
)

const errorDomain = "geocode.v1"

var errMissingCoordinate = errors.New("lat and lon are required numbers")

func keyFromStruct(req *structpb.Struct) (cache.Key, error) {
	if req == nil {
		return cache.Key{}, errMissingCoordinate
	}
	lat, ok := numberField(req, "lat")
	if !ok {
		return cache.Key{}, errMissingCoordinate
	}
	lon, ok := numberField(req, "lon")
	if !ok {
		return cache.Key{}, errMissingCoordinate
	}
	key := cache.NewKey(lat, lon)
	if !key.Valid() {
		return cache.Key{}, fmt.Errorf("coordinates %s are not finite", key)
	}
	return key, nil
}

func numberField(req *structpb.Struct, name string) (float64, bool) {
	value, ok := req.GetFields()[name]
	if !ok {
		return 0, false
	}
	number, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	return number.NumberValue, true
}

// NewReverseRequest builds the request message for key.
func NewReverseRequest(key cache.Key) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"lat": structpb.NewNumberValue(key.Lat),
		"lon": structpb.NewNumberValue(key.Lon),
	}}
}

// EntryFromResponse reads a Reverse response back into a cache entry and
// the source the server reported.
func EntryFromResponse(resp *structpb.Struct) (cache.Entry, string) {
	fields := resp.GetFields()
	entry := cache.Entry{
		Found: fields["found"].GetBoolValue(),
		Name:  fields["display_name"].GetStringValue(),
	}
	return entry, fields["source"].GetStringValue()
}

func withCategory(st *status.Status, category string) *status.Status {
	if category == "" {
		return st
	}
	detailed, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   category,
		Domain:   errorDomain,
		Metadata: map[string]string{"error": "lookup_failed"},
	})
	if err != nil {
		return st
	}
	return detailed
}

// categoryFromStatus returns the failure category attached to a status
// error, or "closed"/"invalid" for the codes that carry none.
func categoryFromStatus(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return "other"
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetDomain() == errorDomain {
			return info.GetReason()
		}
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return "invalid"
	case codes.Unavailable:
		return "closed"
	case codes.Canceled:
		return "canceled"
	}
	return "other"
}
